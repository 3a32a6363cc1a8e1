package out

import (
	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/model"
	"github.com/ggonzalez94/swapguard/internal/recovery"
)

// ErrorBody builds the envelope error for err. The exit code comes from the
// typed error; the explanation comes from the recovery classifier.
func ErrorBody(err error) *model.ErrorBody {
	if err == nil {
		return nil
	}
	code := clierr.CodeInternal
	if typed, ok := clierr.As(err); ok {
		code = typed.Code
	}
	app := recovery.Classify(err)
	return &model.ErrorBody{
		Code:        int(code),
		Type:        clierr.TypeName(code),
		Message:     err.Error(),
		Category:    string(app.Category),
		Recovery:    string(app.Code),
		UserMessage: app.UserMessage,
		Guidance:    app.Guidance,
		Action:      app.Action,
		Retryable:   app.Retryable,
	}
}
