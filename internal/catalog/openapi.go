package catalog

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/payload"
	"github.com/example/clientfactory/internal/request"
)

// LoadOpenAPI builds a catalog from an OpenAPI 3 document in YAML or JSON.
//
// Each operation becomes a template named by its operationId, or
// "<method>:<path>" without one. Query parameters are declared, enum values
// become choices, and the JSON request body schema becomes a payload schema
// whose rules follow the schema's required list and bounds. The first server
// URL is the catalog's base URL.
func LoadOpenAPI(ctx context.Context, data []byte) (*Catalog, error) {
	const op = "catalog.openapi"
	if len(data) == 0 {
		return nil, errs.Configuration(op, "document is empty")
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, errs.Configuration(op, "load document: %v", err)
	}
	if doc.Paths == nil || doc.Paths.Len() == 0 {
		return nil, errs.Configuration(op, "document does not contain any paths")
	}

	var target request.Target
	if len(doc.Servers) > 0 && doc.Servers[0] != nil {
		target.BaseURL = doc.Servers[0].URL
	}
	name := ""
	if doc.Info != nil {
		name = doc.Info.Title
	}
	c := New(name, target)

	paths := doc.Paths.Map()
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	slices.Sort(keys)

	for _, path := range keys {
		item := paths[path]
		if item == nil {
			continue
		}
		ops := item.Operations()
		methods := make([]string, 0, len(ops))
		for m := range ops {
			methods = append(methods, m)
		}
		slices.Sort(methods)
		for _, method := range methods {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			tmpl, schema, err := convertOperation(method, path, item, ops[method])
			if err != nil {
				return nil, err
			}
			if err := c.Add(tmpl, schema); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func convertOperation(method, path string, item *openapi3.PathItem, o *openapi3.Operation) (request.Template, *payload.Schema, error) {
	m, err := request.ParseMethod(method)
	if err != nil {
		return request.Template{}, nil, err
	}
	tmpl := request.Template{
		Name:        o.OperationID,
		Method:      m,
		Path:        path,
		Description: cmp.Or(o.Summary, o.Description),
	}

	params := append(slices.Clone(item.Parameters), o.Parameters...)
	for _, ref := range params {
		if ref == nil || ref.Value == nil {
			continue
		}
		p := ref.Value
		if p.In == openapi3.ParameterInQuery && !slices.Contains(tmpl.QueryParams, p.Name) {
			tmpl.QueryParams = append(tmpl.QueryParams, p.Name)
		}
		if p.In != openapi3.ParameterInQuery && p.In != openapi3.ParameterInPath {
			continue
		}
		if p.Schema != nil && p.Schema.Value != nil && len(p.Schema.Value.Enum) > 0 {
			if tmpl.Choices == nil {
				tmpl.Choices = make(map[string][]any)
			}
			tmpl.Choices[p.Name] = slices.Clone(p.Schema.Value.Enum)
		}
	}

	if !m.HasBody() {
		return tmpl, nil, nil
	}
	body := jsonBody(o.RequestBody)
	if body == nil || len(body.Properties) == 0 {
		return tmpl, nil, nil
	}

	fields := make(map[string]payload.Field, len(body.Properties))
	for name, prop := range body.Properties {
		required := slices.Contains(body.Required, name)
		var s *openapi3.Schema
		if prop != nil {
			s = prop.Value
		}
		fields[name] = payload.Field{Rules: rules(s, required), Default: defaultOf(s)}
		if s != nil && len(s.Enum) > 0 {
			if tmpl.Choices == nil {
				tmpl.Choices = make(map[string][]any)
			}
			tmpl.Choices[name] = slices.Clone(s.Enum)
		}
		tmpl.BodyFields = append(tmpl.BodyFields, name)
	}
	slices.Sort(tmpl.BodyFields)
	return tmpl, payload.NewSchema(fields), nil
}

func jsonBody(ref *openapi3.RequestBodyRef) *openapi3.Schema {
	if ref == nil || ref.Value == nil {
		return nil
	}
	mt := ref.Value.Content.Get("application/json")
	if mt == nil {
		for _, candidate := range ref.Value.Content {
			mt = candidate
			break
		}
	}
	if mt == nil || mt.Schema == nil {
		return nil
	}
	return mt.Schema.Value
}

// rules translates schema bounds into validator tags.
func rules(s *openapi3.Schema, required bool) string {
	var tags []string
	if required {
		tags = append(tags, "required")
	} else {
		tags = append(tags, "omitempty")
	}
	if s == nil {
		return strings.Join(tags, ",")
	}
	num := s.Type != nil && (s.Type.Is(openapi3.TypeInteger) || s.Type.Is(openapi3.TypeNumber))
	str := s.Type != nil && s.Type.Is(openapi3.TypeString)

	if num && s.Min != nil {
		tags = append(tags, "gte="+formatFloat(*s.Min))
	}
	if num && s.Max != nil {
		tags = append(tags, "lte="+formatFloat(*s.Max))
	}
	if str && s.MinLength > 0 {
		tags = append(tags, "min="+strconv.FormatUint(s.MinLength, 10))
	}
	if str && s.MaxLength != nil {
		tags = append(tags, "max="+strconv.FormatUint(*s.MaxLength, 10))
	}
	if str && len(s.Enum) > 0 {
		vals := make([]string, 0, len(s.Enum))
		for _, v := range s.Enum {
			vals = append(vals, fmt.Sprint(v))
		}
		tags = append(tags, "oneof="+strings.Join(vals, " "))
	}
	if str && s.Format == "email" {
		tags = append(tags, "email")
	}
	if str && s.Format == "uuid" {
		tags = append(tags, "uuid")
	}
	return strings.Join(tags, ",")
}

func defaultOf(s *openapi3.Schema) any {
	if s == nil {
		return nil
	}
	return s.Default
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
