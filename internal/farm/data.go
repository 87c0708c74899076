// Package farm serves the dashboard's reference data: market prices, weather,
// crop recommendations and the profit trend. The figures are fixed sample
// data; no live feed is wired in.
package farm

// Trend is the direction of a price move.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

type CropPrice struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	CurrentPrice  float64 `json:"currentPrice"`
	PreviousPrice float64 `json:"previousPrice"`
	Unit          string  `json:"unit"`
	Trend         Trend   `json:"trend"`
	PercentChange float64 `json:"percentChange"`
}

type ForecastDay struct {
	Day         string  `json:"day"`
	Temperature float64 `json:"temperature"`
	Icon        string  `json:"icon"`
}

type WeatherReport struct {
	Temperature   float64       `json:"temperature"`
	Humidity      float64       `json:"humidity"`
	Description   string        `json:"description"`
	WindSpeed     float64       `json:"windSpeed"`
	Precipitation float64       `json:"precipitation"`
	Icon          string        `json:"icon"`
	Forecast      []ForecastDay `json:"forecast"`
}

type Recommendation struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Suitability      string `json:"suitability"`
	WaterRequirement string `json:"waterRequirement"`
	HarvestTime      int    `json:"harvestTime"` // days
	ProfitPotential  string `json:"profitPotential"`
	Icon             string `json:"icon"`
}

type ProfitPoint struct {
	Month    string  `json:"month"`
	Revenue  float64 `json:"revenue"`
	Expenses float64 `json:"expenses"`
	Profit   float64 `json:"profit"`
}

// MarketPrices returns the current price board, per quintal.
func MarketPrices() []CropPrice {
	return []CropPrice{
		{ID: "1", Name: "Rice", CurrentPrice: 2200, PreviousPrice: 2100, Unit: "quintal", Trend: TrendUp, PercentChange: 4.76},
		{ID: "2", Name: "Wheat", CurrentPrice: 2050, PreviousPrice: 2100, Unit: "quintal", Trend: TrendDown, PercentChange: -2.38},
		{ID: "3", Name: "Cotton", CurrentPrice: 6500, PreviousPrice: 6300, Unit: "quintal", Trend: TrendUp, PercentChange: 3.17},
		{ID: "4", Name: "Sugarcane", CurrentPrice: 280, PreviousPrice: 280, Unit: "quintal", Trend: TrendStable, PercentChange: 0},
		{ID: "5", Name: "Maize", CurrentPrice: 1850, PreviousPrice: 1900, Unit: "quintal", Trend: TrendDown, PercentChange: -2.63},
		{ID: "6", Name: "Soybeans", CurrentPrice: 3800, PreviousPrice: 3700, Unit: "quintal", Trend: TrendUp, PercentChange: 2.70},
	}
}

// PriceOf returns the current price of a crop by name.
func PriceOf(name string) (CropPrice, bool) {
	for _, p := range MarketPrices() {
		if p.Name == name {
			return p, true
		}
	}
	return CropPrice{}, false
}

// Weather returns today's conditions and the seven day forecast.
func Weather() WeatherReport {
	return WeatherReport{
		Temperature:   32,
		Humidity:      65,
		Description:   "Partly Cloudy",
		WindSpeed:     12,
		Precipitation: 20,
		Icon:          "cloud-sun",
		Forecast: []ForecastDay{
			{Day: "Mon", Temperature: 32, Icon: "cloud-sun"},
			{Day: "Tue", Temperature: 34, Icon: "sun"},
			{Day: "Wed", Temperature: 33, Icon: "sun"},
			{Day: "Thu", Temperature: 30, Icon: "cloud-rain"},
			{Day: "Fri", Temperature: 29, Icon: "cloud-rain"},
			{Day: "Sat", Temperature: 31, Icon: "cloud"},
			{Day: "Sun", Temperature: 33, Icon: "sun"},
		},
	}
}

// Recommendations returns the crops suggested for the current season.
func Recommendations() []Recommendation {
	return []Recommendation{
		{ID: "1", Name: "Paddy Rice", Suitability: "Excellent", WaterRequirement: "High", HarvestTime: 120, ProfitPotential: "High", Icon: "seedling"},
		{ID: "2", Name: "Cotton", Suitability: "Good", WaterRequirement: "Medium", HarvestTime: 180, ProfitPotential: "High", Icon: "flower"},
		{ID: "3", Name: "Sugarcane", Suitability: "Average", WaterRequirement: "High", HarvestTime: 360, ProfitPotential: "Medium", Icon: "bamboo"},
		{ID: "4", Name: "Soybeans", Suitability: "Good", WaterRequirement: "Medium", HarvestTime: 100, ProfitPotential: "Medium", Icon: "sprout"},
	}
}

// ProfitTrend returns the monthly revenue, expense and profit series.
func ProfitTrend() []ProfitPoint {
	return []ProfitPoint{
		{Month: "Jan", Revenue: 45000, Expenses: 30000, Profit: 15000},
		{Month: "Feb", Revenue: 52000, Expenses: 32000, Profit: 20000},
		{Month: "Mar", Revenue: 48000, Expenses: 29000, Profit: 19000},
		{Month: "Apr", Revenue: 61000, Expenses: 35000, Profit: 26000},
		{Month: "May", Revenue: 55000, Expenses: 33000, Profit: 22000},
		{Month: "Jun", Revenue: 67000, Expenses: 39000, Profit: 28000},
	}
}
