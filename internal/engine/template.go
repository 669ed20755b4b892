package engine

import (
	"strconv"
	"strings"
)

// RenderTemplate substitutes {placeholder} markers in an operator
// supplied message template. Unknown placeholders are left as-is so a
// typo in a template produces visible output instead of silence.
func RenderTemplate(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func thankVars(uname, giftName string, num int) map[string]string {
	return map[string]string{
		"uname":     uname,
		"gift_name": giftName,
		"num":       strconv.Itoa(num),
	}
}

func guardVars(uname, guardName string) map[string]string {
	return map[string]string{
		"uname":      uname,
		"guard_name": guardName,
	}
}
