package httputil

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// GetRequiredQueryParameters attempts to read the specified query parameters
// from the request and returns a map of the key value pairs. If any of the required
// query parameters are missing or blank, it'll write a 400 status code as well as
// the reasoning for the error into the ResponseWriter, and also set return false.
func GetRequiredQueryParameters(w http.ResponseWriter, r *http.Request, paramKeys ...string) (map[string]string, zerolog.Logger, bool) {
	params := make(map[string]string, len(paramKeys))
	logger := log.With()
	for _, key := range paramKeys {
		value := r.URL.Query().Get(key)
		if value == "" {
			http.Error(w, fmt.Sprintf("expected %s query parameter", key), http.StatusBadRequest)
			return nil, zerolog.Nop(), false
		}
		params[key] = value
		logger = logger.Str(key, value)
	}
	return params, logger.Logger(), true
}

// GetIntQueryParameter reads an optional integer query parameter. A
// malformed value writes a 400 status code and returns false.
func GetIntQueryParameter(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		http.Error(w, fmt.Sprintf("%s query parameter should be an integer", key), http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

// GetBoolQueryParameter reads an optional boolean query parameter. A
// malformed value writes a 400 status code and returns false.
func GetBoolQueryParameter(w http.ResponseWriter, r *http.Request, key string, fallback bool) (bool, bool) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback, true
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		http.Error(w, fmt.Sprintf("%s query parameter should be a boolean", key), http.StatusBadRequest)
		return false, false
	}
	return v, true
}
