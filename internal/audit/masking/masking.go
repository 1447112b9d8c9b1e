package masking

import "strings"

const maskToken = "****"

// MaskSecret redacts a value while keeping a short suffix so operators can
// still match it against a bank slip or card receipt.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskFields returns a copy of input with the named string fields masked.
// Other values are copied unchanged.
func MaskFields(input map[string]any, fields ...string) map[string]any {
	if len(input) == 0 {
		return nil
	}

	sensitive := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		sensitive[strings.ToLower(strings.TrimSpace(field))] = struct{}{}
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if _, ok := sensitive[strings.ToLower(trimmedKey)]; ok {
			masked[trimmedKey] = maskValue(value)
			continue
		}
		masked[trimmedKey] = value
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(value any) any {
	switch cast := value.(type) {
	case string:
		return MaskSecret(cast)
	case *string:
		if cast == nil {
			return nil
		}
		return MaskSecret(*cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(item))
		}
		return out
	default:
		return value
	}
}

func splitPrefix(value string) (string, string) {
	lastDash := strings.LastIndexAny(value, "_-")
	if lastDash == -1 || lastDash == len(value)-1 {
		return "", value
	}
	return value[:lastDash+1], value[lastDash+1:]
}
