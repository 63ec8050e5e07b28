package audit

import "strconv"

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func formatInt(n int) string { return strconv.Itoa(n) }
