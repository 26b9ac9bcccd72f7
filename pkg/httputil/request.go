package httputil

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// DateLayout is the calendar date format accepted in query strings
const DateLayout = "2006-01-02"

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, fmt.Errorf("missing path parameter: %s", key)
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %s", key, str)
	}
	return val, nil
}

// ParsePathInt64OrError extracts an int64 path parameter and writes a 400 on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteFieldError(w, key, err.Error())
		return 0, false
	}
	return val, true
}

// ParseQueryInt extracts an integer query parameter, defaultVal when absent
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for query param %s: %s", key, str)
	}
	return val, nil
}

// ParseQueryInt64 extracts an optional int64 query parameter
func ParseQueryInt64(r *http.Request, key string) (*int64, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid integer for query param %s: %s", key, str)
	}
	return &val, nil
}

// ParseQueryDate extracts a required YYYY-MM-DD query parameter as UTC midnight
func ParseQueryDate(r *http.Request, key string) (time.Time, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return time.Time{}, fmt.Errorf("missing query param: %s", key)
	}
	t, err := time.ParseInLocation(DateLayout, str, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date for query param %s: %s", key, str)
	}
	return t, nil
}

// ParseQueryTime extracts a required timestamp; RFC 3339 and bare dates are accepted
func ParseQueryTime(r *http.Request, key string) (time.Time, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return time.Time{}, fmt.Errorf("missing query param: %s", key)
	}
	if t, err := time.Parse(time.RFC3339, str); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", str, time.UTC); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(DateLayout, str, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp for query param %s: %s", key, str)
}
