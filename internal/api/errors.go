package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/chicify/socialgraph/internal/graph"
)

// Error represents an API error
type Error struct {
	Code    int
	Message string
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// errorFor maps a graph error onto the HTTP status and message returned to
// the client. Internal details of unexpected errors are not exposed.
func errorFor(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch graph.CodeOf(err) {
	case graph.CodeInvalidArgument, graph.CodeSelfReference:
		return NewError(http.StatusBadRequest, err.Error())
	case graph.CodeNotFound:
		return NewError(http.StatusNotFound, err.Error())
	case graph.CodeConflict:
		return NewError(http.StatusConflict, err.Error())
	case graph.CodeUnavailable:
		return NewError(http.StatusServiceUnavailable, "storage temporarily unavailable, retry later")
	case graph.CodeConsistencyFault:
		return NewError(http.StatusInternalServerError, "relationship update could not be completed")
	default:
		return NewError(http.StatusInternalServerError, "internal server error")
	}
}

// bindError turns a gin binding failure into a 400 with readable messages
func bindError(err error) *Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewError(http.StatusBadRequest, "invalid request payload")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_without":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return NewError(http.StatusBadRequest, strings.Join(msgs, "; "))
}

var tagNamesOnce sync.Once

// registerTagNames makes validation errors report json or form names
func registerTagNames() {
	tagNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
				if name != "" && name != "-" {
					return name
				}
			}
			return f.Name
		})
	})
}

// writeError renders err with the code field clients branch on
func writeError(c *gin.Context, err error) {
	apiErr := errorFor(err)
	c.JSON(apiErr.Code, gin.H{
		"success": false,
		"error":   apiErr.Message,
		"code":    graph.CodeOf(err),
	})
}

func writeBindError(c *gin.Context, err error) {
	apiErr := bindError(err)
	c.JSON(apiErr.Code, gin.H{
		"success": false,
		"error":   apiErr.Message,
		"code":    graph.CodeInvalidArgument,
	})
}
