package service

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/timmy/embedr/internal/domain"
)

var itemIDPattern = regexp.MustCompile(`^[-_.:~a-zA-Z0-9]{1,255}$`)

// Submitted field names after key lowering and alias resolution.
var allowedFields = map[string]bool{
	"id":               true,
	"title":            true,
	"creator":          true,
	"source":           true,
	"institution":      true,
	"institution_link": true,
	"license":          true,
	"description":      true,
	"url":              true,
}

var fieldAliases = map[string]string{
	"institutionlink": "institution_link",
	"imageurl":        "url",
}

// Optional fields that must hold a URL when non-empty, with their display names.
var linkFields = []struct{ key, name string }{
	{"source", "Source"},
	{"institution_link", "InstitutionLink"},
	{"license", "License"},
}

func newRecordValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("item_id", func(fl validator.FieldLevel) bool {
		return itemIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// recordValidator checks raw submission records and turns them into ItemData.
type recordValidator struct {
	validate *validator.Validate
}

func (rv *recordValidator) validID(id string) bool {
	return rv.validate.Var(id, "required,item_id") == nil
}

func (rv *recordValidator) validURL(u string) bool {
	return rv.validate.Var(u, "required,http_url") == nil
}

// Validate checks every record and reports all problems at once.
// Record numbers in messages are 0-based submission positions.
func (rv *recordValidator) Validate(records []map[string]any) ([]domain.ItemData, error) {
	if len(records) == 0 {
		return nil, &domain.ValidationError{Errors: []string{"The submission must be a non-empty list of items"}}
	}

	var errs []string
	seen := make(map[string]bool, len(records))
	out := make([]domain.ItemData, 0, len(records))

	for order, raw := range records {
		if raw == nil {
			errs = append(errs, fmt.Sprintf("The item num. %d must be inside of '{}'", order))
			continue
		}

		rec := make(map[string]any, len(raw))
		for k, v := range raw {
			rec[strings.ToLower(k)] = v
		}

		id, ok := rec["id"].(string)
		if !ok || seen[id] {
			errs = append(errs, fmt.Sprintf("The item num. %d must have unique ID", order))
			continue
		}
		seen[id] = true

		if !rv.validID(id) {
			errs = append(errs, fmt.Sprintf("The item num. %d must have valid ID", order))
		}

		if status, has := rec["status"]; has {
			if len(rec) != 2 || status != domain.ItemStatusDeleted {
				errs = append(errs, fmt.Sprintf("The item num. %d has status, but it isn't set to 'deleted' or there are more fields", order))
				continue
			}
			out = append(out, domain.ItemData{ID: id, Status: domain.ItemStatusDeleted})
			continue
		}

		for alias, name := range fieldAliases {
			if v, has := rec[alias]; has {
				rec[name] = v
				delete(rec, alias)
			}
		}

		urls, ok := stringList(rec["url"])
		if !ok || len(urls) == 0 {
			errs = append(errs, fmt.Sprintf("The item num. %d doesn't have url field, or it isn't a list or a list is empty", order))
			continue
		}
		for _, u := range urls {
			if !rv.validURL(u) {
				errs = append(errs, fmt.Sprintf("The '%s' url in the item num. %d isn't valid url", u, order))
			}
		}

		text := make(map[string]string, len(rec))
		for _, key := range slices.Sorted(maps.Keys(rec)) {
			v := rec[key]
			if !allowedFields[key] {
				errs = append(errs, fmt.Sprintf("The item num. %d has a not allowed field '%s'", order, key))
				continue
			}
			if key == "url" || key == "id" || v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				errs = append(errs, fmt.Sprintf("The item num. %d has a non-text value in the '%s' field", order, key))
				continue
			}
			text[key] = s
		}

		for _, f := range linkFields {
			if s := text[f.key]; s != "" && !rv.validURL(s) {
				errs = append(errs, fmt.Sprintf("The item num. %d doesn't have valid url '%s' in the %s field", order, s, f.name))
			}
		}

		out = append(out, domain.ItemData{
			ID:              id,
			Title:           text["title"],
			Creator:         text["creator"],
			Source:          text["source"],
			Institution:     text["institution"],
			InstitutionLink: text["institution_link"],
			License:         text["license"],
			Description:     text["description"],
			URLs:            urls,
		})
	}

	if len(errs) > 0 {
		return nil, &domain.ValidationError{Errors: errs}
	}
	return out, nil
}

// stringList accepts a JSON list of strings in either decoded form.
func stringList(v any) (domain.StringArray, bool) {
	switch list := v.(type) {
	case []string:
		return append(domain.StringArray{}, list...), true
	case []any:
		out := make(domain.StringArray, 0, len(list))
		for _, e := range list {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
