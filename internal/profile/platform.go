package profile

import (
	"fmt"
	"strings"
)

type Platform string

const (
	LeetCode   Platform = "leetcode"
	Codeforces Platform = "codeforces"
	GFG        Platform = "gfg"
	CodeChef   Platform = "codechef"
	HackerRank Platform = "hackerrank"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{LeetCode, Codeforces, GFG, CodeChef, HackerRank}

var platformAliases = map[string]Platform{
	"leetcode":      LeetCode,
	"lc":            LeetCode,
	"codeforces":    Codeforces,
	"cf":            Codeforces,
	"gfg":           GFG,
	"geeksforgeeks": GFG,
	"codechef":      CodeChef,
	"cc":            CodeChef,
	"hackerrank":    HackerRank,
	"hr":            HackerRank,
}

func ParsePlatform(name string) (Platform, error) {
	p, ok := platformAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown platform %q", name)
	}
	return p, nil
}

func (p Platform) String() string {
	return string(p)
}

// Title is the human readable name used in user-facing messages.
func (p Platform) Title() string {
	switch p {
	case LeetCode:
		return "LeetCode"
	case Codeforces:
		return "Codeforces"
	case GFG:
		return "GeeksforGeeks"
	case CodeChef:
		return "CodeChef"
	case HackerRank:
		return "HackerRank"
	}
	return string(p)
}
