package response

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type responseError struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
}

func (re *responseError) Error() string {
	if re == nil {
		return ""
	}
	return `{"code": ` + strconv.Itoa(int(re.Code)) + `, "message": ` + strconv.Quote(re.Message) + `}`
}

func (re *responseError) GetCode() ErrCode {
	if re == nil {
		return 0
	}
	return re.Code
}

// MultiError is the error body of every failed request.
type MultiError struct {
	errors []error
}

func NewMultiError(err ...error) *MultiError {
	return &MultiError{
		errors: err,
	}
}

// Errors returns a copy of the collected errors.
func (e *MultiError) Errors() []error {
	return append(make([]error, 0, len(e.errors)), e.errors...)
}

func (e *MultiError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Errors []error `json:"errors"`
	}{
		Errors: e.errors,
	})
}

func (e *MultiError) UnmarshalJSON(bytes []byte) error {
	errs := struct {
		Errors []*responseError `json:"errors"`
	}{}
	if err := json.Unmarshal(bytes, &errs); err != nil {
		return err
	}
	for _, err := range errs.Errors {
		e.errors = append(e.errors, err)
	}
	return nil
}

func generateError(code ErrCode, s ...interface{}) *responseError {
	return &responseError{
		Code:    code,
		Message: fmt.Sprintf(messages[code], s...),
	}
}

func ErrChannelNotFound(channel string) *responseError {
	return generateError(ErrCodeChannelNotFound, channel)
}

func ErrSessionNotFound(id string) *responseError {
	return generateError(ErrCodeSessionNotFound, id)
}
