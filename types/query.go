package types

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const DefaultDocumentsPath = "data/"

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

// QueryParams is the body of POST /query.
type QueryParams struct {
	Question string `json:"question" validate:"required,notblank"`
}

// IndexParams is the body of POST /index_documents. A nil path means the
// default documents directory.
type IndexParams struct {
	DocumentsPath *string `json:"documents_path"`
}

func init() {
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *QueryParams) Validate() map[string]string {
	return structErrors(params)
}

func (params *IndexParams) Validate() map[string]string {
	if params.DocumentsPath != nil && strings.TrimSpace(*params.DocumentsPath) == "" {
		return map[string]string{"DocumentsPath": "failed on 'notblank' tag"}
	}
	return nil
}

// Path resolves the requested directory, falling back to DefaultDocumentsPath.
func (params *IndexParams) Path() string {
	if params.DocumentsPath == nil {
		return DefaultDocumentsPath
	}
	return strings.TrimSpace(*params.DocumentsPath)
}

func structErrors(s any) map[string]string {
	if err := validate.Struct(s); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type QueryResponse struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type IndexStatusResponse struct {
	IndexName   string `json:"index_name"`
	Status      string `json:"status"`
	VectorCount int64  `json:"vector_count"`
	Dimension   int    `json:"dimension"`
}
