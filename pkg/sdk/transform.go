package sdk

// transformKey marks a field value the store rewrites at write time.
const transformKey = "$transform"

const serverTimestampTransform = "serverTimestamp"

// FieldTransform is a placeholder value resolved by the store when a write is applied.
type FieldTransform struct {
	Transform string `json:"$transform"`
}

// ServerTimestamp returns a field value that the store replaces with its own clock
// reading when the write is applied. Callers never supply their local time.
func ServerTimestamp() FieldTransform {
	return FieldTransform{Transform: serverTimestampTransform}
}

// IsServerTimestamp reports whether v is the server timestamp placeholder,
// either as a FieldTransform or in the map form it takes after crossing the wire.
func IsServerTimestamp(v any) bool {
	switch t := v.(type) {
	case FieldTransform:
		return t.Transform == serverTimestampTransform
	case *FieldTransform:
		return t != nil && t.Transform == serverTimestampTransform
	case map[string]any:
		if len(t) != 1 {
			return false
		}
		s, ok := t[transformKey].(string)
		return ok && s == serverTimestampTransform
	}
	return false
}
