package http

import (
	"net/http"
	"strconv"

	"slotswapper/pkg/config"
	apperrors "slotswapper/pkg/errors"
	"slotswapper/pkg/model"
)

// ExtractPage reads limit and offset from the query string. A request that
// names neither gets the zero Page, which lists everything.
func ExtractPage(r *http.Request) (model.Page, error) {
	query := r.URL.Query()
	if !query.Has("limit") && !query.Has("offset") {
		return model.Page{}, nil
	}

	limit, err := queryInt(query.Get("limit"), "limit")
	if err != nil {
		return model.Page{}, err
	}
	offset, err := queryInt(query.Get("offset"), "offset")
	if err != nil {
		return model.Page{}, err
	}

	return model.Page{
		Limit:  config.NormalizePaginationLimit(int(limit)),
		Offset: config.NormalizeOffset(offset),
	}, nil
}

func queryInt(raw, name string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.InvalidInput("invalid " + name + " parameter: " + raw)
	}
	return v, nil
}
