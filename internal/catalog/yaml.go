package catalog

import (
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/payload"
	"github.com/example/clientfactory/internal/request"
)

type yamlCatalog struct {
	Name         string          `yaml:"name"`
	BaseURL      string          `yaml:"baseURL"`
	ResourcePath string          `yaml:"resourcePath"`
	Operations   []yamlOperation `yaml:"operations"`
}

type yamlOperation struct {
	request.Template `yaml:",inline"`
	Payload          *yamlPayload `yaml:"payload,omitempty"`
}

type yamlPayload struct {
	Fields map[string]payload.Field `yaml:"fields"`
	Strict bool                     `yaml:"strict"`
	// Allow lists extra keys accepted in strict mode.
	Allow []string `yaml:"allow"`
}

// LoadYAML parses a declarative catalog:
//
//	name: shop
//	baseURL: https://api.shop.test
//	resourcePath: v1
//	operations:
//	  - name: products.list
//	    method: GET
//	    path: /products
//	    query: [page, category]
//	    choices: {category: [shoes, hats]}
//	  - name: orders.create
//	    method: POST
//	    path: /orders
//	    payload:
//	      fields:
//	        sku: {rules: required}
//	        qty: {rules: "gt=0", default: 1}
func LoadYAML(data []byte) (*Catalog, error) {
	var doc yamlCatalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Configuration("catalog.yaml", "%v", err)
	}
	if doc.BaseURL == "" {
		return nil, errs.Configuration("catalog.yaml", "baseURL is required")
	}

	c := New(doc.Name, request.Target{BaseURL: doc.BaseURL, ResourcePath: doc.ResourcePath})
	for _, op := range doc.Operations {
		tmpl := op.Template
		var schema *payload.Schema
		if op.Payload != nil {
			names := make([]string, 0, len(op.Payload.Fields))
			for n := range op.Payload.Fields {
				names = append(names, n)
			}
			slices.Sort(names)
			if len(tmpl.BodyFields) == 0 {
				tmpl.BodyFields = names
			}
			var opts []payload.Option
			if op.Payload.Strict {
				allowed := append(tmpl.PathParams(), tmpl.QueryParams...)
				opts = append(opts, payload.Strict(append(allowed, op.Payload.Allow...)...))
			}
			schema = payload.NewSchema(op.Payload.Fields, opts...)
		}
		if err := c.Add(tmpl, schema); err != nil {
			return nil, err
		}
	}
	return c, nil
}
