package lib

import "strings"

import humanize "github.com/dustin/go-humanize"

// Parsecsv convert a string of comma seperated value into list of string
// of values, empty values are skipped.
func Parsecsv(input string) []string {
	if input == "" {
		return nil
	}
	outs := make([]string, 0)
	for _, s := range strings.Split(input, ",") {
		if s = strings.Trim(s, " \t\r\n"); s != "" {
			outs = append(outs, s)
		}
	}
	return outs
}

// Parsesizes convert comma separated byte sizes, like "16,4KiB,1MB",
// into a list of byte counts.
func Parsesizes(input string) ([]int64, error) {
	sizes := make([]int64, 0)
	for _, s := range Parsecsv(input) {
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return nil, err
		}
		sizes = append(sizes, int64(n))
	}
	return sizes, nil
}
