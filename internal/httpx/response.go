package httpx

import (
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func OK(c *gin.Context, v any) {
	c.JSON(200, v)
}

func Created(c *gin.Context, v any) {
	c.JSON(201, v)
}

func Err(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}

type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// BindErr renders a binding failure, unpacking validator errors into
// per-field entries.
func BindErr(c *gin.Context, err error) {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		var fields []FieldError
		for _, fe := range verrs {
			fields = append(fields, FieldError{
				Field:   fe.Field(),
				Tag:     fe.Tag(),
				Message: fe.Error(),
			})
		}
		c.JSON(400, gin.H{"error": fields})
		return
	}
	c.JSON(400, gin.H{"error": err.Error()})
}
