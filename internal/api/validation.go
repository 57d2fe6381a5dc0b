package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"preptracker/internal/model"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const dateOnlyLayout = "2006-01-02"

var registerOnce sync.Once

// registerValidators 在 gin 默认校验器上注册 JSON 字段名与自定义规则，只执行一次。
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
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
		_ = v.RegisterValidation("duedate", func(fl validator.FieldLevel) bool {
			_, err := parseDueDate(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("taskstatus", func(fl validator.FieldLevel) bool {
			return model.TaskStatus(fl.Field().String()).Valid()
		})
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			n, ok := field.Interface().(NullableString)
			if !ok || !n.Set || n.Null {
				return nil
			}
			return n.Value
		}, NullableString{})
	})
}

// parseDueDate 接受 RFC3339 时间戳或 YYYY-MM-DD（按 UTC 零点）。
func parseDueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(dateOnlyLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date %q", s)
	}
	return t, nil
}

// NullableString 区分 JSON 中字段缺失、显式 null 与字符串值。
type NullableString struct {
	Set   bool
	Null  bool
	Value string
}

// UnmarshalJSON 只在字段出现时被调用，因此 Set 恒为 true。
func (n *NullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Null = true
		n.Value = ""
		return nil
	}
	n.Null = false
	return json.Unmarshal(data, &n.Value)
}

// bindErrorDetails 把绑定/校验错误转换为 {字段: [信息]}。
func bindErrorDetails(err error) map[string][]string {
	details := make(map[string][]string)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			field := fe.Field()
			details[field] = append(details[field], fieldMessage(fe))
		}
		return details
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		details[typeErr.Field] = []string{fmt.Sprintf("%s has an invalid type", fieldLabel(typeErr.Field))}
		return details
	}

	details["body"] = []string{"Invalid JSON body"}
	return details
}

func fieldMessage(fe validator.FieldError) string {
	return messageFor(fe.Field(), fe.Tag(), fe.Param())
}

func fieldMessageFor(field, tag string) string {
	return messageFor(field, tag, "")
}

func messageFor(field, tag, param string) string {
	label := fieldLabel(field)
	switch tag {
	case "required":
		return label + " is required"
	case "min":
		if param == "1" {
			return label + " is required"
		}
		return fmt.Sprintf("%s must be at least %s characters", label, param)
	case "max":
		return label + " too long"
	case "taskstatus":
		return fmt.Sprintf("%s must be one of %s, %s, %s", label, model.StatusTodo, model.StatusInProgress, model.StatusDone)
	case "duedate":
		return label + " must be an ISO date (YYYY-MM-DD or RFC3339)"
	default:
		return label + " is invalid"
	}
}

// fieldLabel 把 camelCase 字段名转成可读标签，如 requiredSkills -> "Required skills"。
func fieldLabel(field string) string {
	var b strings.Builder
	for i, r := range field {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r):
			b.WriteRune(' ')
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
