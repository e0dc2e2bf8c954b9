package meta

import (
	"fmt"
	"strconv"
	"strings"
)

// Bucket is the single bbolt bucket every key in spec.md §3 lives in.
const Bucket = "junkfs"

const (
	superBlockKey = "sb"
	imapSumKey    = "imap_sum"
)

func inodeKey(ino uint64) []byte {
	return []byte("i_" + strconv.FormatUint(ino, 10))
}

func dentryKey(parent uint64, name string) []byte {
	return []byte(dentryPrefix(parent) + name)
}

// dentryPrefix returns the shared prefix of every dentry key belonging to
// parent, used both to build a full key and to scan a directory's entries.
func dentryPrefix(parent uint64) string {
	return "d_" + strconv.FormatUint(parent, 10) + "_"
}

func imapGroupKey(gid uint64) []byte {
	return []byte("imap_" + strconv.FormatUint(gid, 10))
}

// parseDentryKey extracts the name suffix from a key known to start with
// prefix. It panics if key doesn't have prefix, since callers only ever
// call it on keys obtained from a prefix scan using the same prefix.
func parseDentryKey(key []byte, prefix string) string {
	s := string(key)
	if !strings.HasPrefix(s, prefix) {
		panic(fmt.Sprintf("meta: key %q missing expected prefix %q", s, prefix))
	}
	return s[len(prefix):]
}
