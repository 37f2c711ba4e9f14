// Package validation wraps go-playground/validator with rules for decimal money fields.
package validation

import (
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// New returns a validator with the decimal_gt, decimal_gte and money rules registered.
//
//	Amount decimal.Decimal `validate:"decimal_gt=0,money"`
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("decimal_gt", compare(func(d, bound decimal.Decimal) bool { return d.GreaterThan(bound) }))
	_ = v.RegisterValidation("decimal_gte", compare(func(d, bound decimal.Decimal) bool { return d.GreaterThanOrEqual(bound) }))
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		d, ok := asDecimal(fl.Field())
		return ok && d.Equal(d.Round(2))
	})
	return v
}

func compare(cmp func(d, bound decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		d, ok := asDecimal(fl.Field())
		if !ok {
			return false
		}
		bound, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return cmp(d, bound)
	}
}

// asDecimal reads the field after the custom type func has turned it into a string.
func asDecimal(field reflect.Value) (decimal.Decimal, bool) {
	if field.Kind() != reflect.String {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(field.String())
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
