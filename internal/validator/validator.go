package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	once  sync.Once
	trans ut.Translator
)

// messages replaces the stock English text for tags whose default wording
// means little to an exam client.
var messages = map[string]string{
	"uuid":     "{0} must be a valid id",
	"alphanum": "{0} may only contain letters and digits",
	"required": "{0} is required",
}

// Setup registers JSON field names and English translations on Gin's
// binding engine. Safe to call more than once.
func Setup() {
	once.Do(func() {
		v, ok := binding.Validator.Engine().(*govalidator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		trans, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		for tag, msg := range messages {
			tag, msg := tag, msg
			_ = v.RegisterTranslation(tag, trans,
				func(t ut.Translator) error { return t.Add(tag, msg, true) },
				func(t ut.Translator, fe govalidator.FieldError) string {
					s, err := t.T(tag, fe.Field())
					if err != nil {
						return fe.Error()
					}
					return s
				})
		}
	})
}

// TranslateErrors maps a binding or validation error to field path and
// message. Entries inside a list are keyed by index, e.g.
// "answers[3].question_id". Anything else lands under "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fieldPath(fe)] = fe.Translate(trans)
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe govalidator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// Validate runs the binding rules on an already decoded value, for payloads
// that do not arrive as a request body.
func Validate(v interface{}) map[string]string {
	if err := binding.Validator.ValidateStruct(v); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
