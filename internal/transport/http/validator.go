package http

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/venuehub/marketplace/internal/money"
)

// registerValidations adds the "money" rule to gin's binding validator:
// a dollar string with at most two decimal places, positive and bounded.
func registerValidations() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		_, err := money.ParseDollars(fl.Field().String())
		return err == nil
	})
}
