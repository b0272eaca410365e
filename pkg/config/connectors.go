package config

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/ajitpratap0/machconn/pkg/errors"
)

// ApplyDefaults fills zero valued fields of the struct pointed to by v from
// their default tags. Nested structs and slices of structs are visited.
func ApplyDefaults(v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("config: ApplyDefaults needs a non-nil pointer, got %T", v)
	}
	return applyDefaults(rv.Elem())
}

func applyDefaults(v reflect.Value) error {
	switch v.Kind() {
	case reflect.Struct:
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			if err := applyDefaults(v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := v.Field(i)
		def, ok := field.Tag.Lookup("default")
		if !ok {
			if err := applyDefaults(fv); err != nil {
				return err
			}
			continue
		}
		if !fv.IsZero() {
			continue
		}
		if err := setFromString(fv, def); err != nil {
			return fmt.Errorf("config: default of %s.%s: %w", t.Name(), field.Name, err)
		}
	}
	return nil
}

func setFromString(fv reflect.Value, s string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	default:
		return fmt.Errorf("unsupported kind %s", fv.Kind())
	}
	return nil
}

// checkRequired reports the first required field left empty in the struct
// pointed to by v
func checkRequired(v interface{}) error {
	rv := reflect.Indirect(reflect.ValueOf(v))
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get("required") != "true" {
			continue
		}
		if rv.Field(i).IsZero() {
			name := field.Tag.Get("yaml")
			if name == "" {
				name = field.Name
			}
			return errors.Newf(errors.ErrorTypeConfig, "%s is required", name)
		}
	}
	return nil
}
