package entree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-errors"
)

func errInvalidValue(value any, kind string) error {
	return errors.New(fmt.Sprintf("%v is not a valid %s", value, kind), errors.CategoryValidation).
		WithTextCode(TextCodeInvalidPropertyType)
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, errInvalidValue(value, PropertyInteger)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, errInvalidValue(value, PropertyInteger)
		}
		return n, nil
	}
	return 0, errInvalidValue(value, PropertyInteger)
}

// toBool accepts the values an html checkbox or a json body may carry
func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "0", "false", "off", "no":
			return false, nil
		case "1", "true", "on", "yes":
			return true, nil
		}
	}
	return false, errInvalidValue(value, PropertyBoolean)
}

func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(value)
}

// ParseValue converts raw into the natural type of t
func ParseValue(t PropertyType, raw any) (any, error) {
	switch t {
	case PropertyInteger:
		return toInt64(raw)
	case PropertyBoolean:
		return toBool(raw)
	}
	return toString(raw), nil
}
