package validation

import (
	"reflect"
	"strings"
)

// jsonName reports fields by their wire name so messages match request bodies.
func jsonName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}
