package middleware

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

// UserID returns the authenticated subject as a string, or "anon" for
// unauthenticated requests.  JSON numbers in claims decode as float64.
func UserID(c echo.Context) string {
	switch v := c.Get(ContextUserID).(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case nil:
	default:
		return fmt.Sprint(v)
	}
	return "anon"
}
