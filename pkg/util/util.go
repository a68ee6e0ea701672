package util

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"regexp"
	"strings"
)

var shardName = regexp.MustCompile(`^shards/[a-fA-F0-9]{8}-[a-fA-F0-9]{8}/([^.]+)`)

// ParseShardName returns the database name of a shard file such as
// "shards/00000000-7fffffff/mydb.1415960794", or name unchanged when it
// is not a shard.
func ParseShardName(name string) string {
	match := shardName.FindStringSubmatch(name)
	if match == nil {
		return name
	}
	return match[1]
}

// DBCopyDocID returns the id dbcopy gives the document holding key. It
// is the url safe, unpadded base64 MD5 of key in the Erlang external
// term format for binaries.
func DBCopyDocID(key string) string {
	external := make([]byte, 0, len(key)+6)
	external = append(external, 131, 109)
	external = binary.BigEndian.AppendUint32(external, uint32(len(key)))
	external = append(external, key...)

	sum := md5.Sum(external)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// DesignDocID prefixes name with "_design/" unless it already has it.
func DesignDocID(name string) string {
	if strings.HasPrefix(name, "_design/") {
		return name
	}
	return "_design/" + name
}

// SplitDesignDocID is the inverse of DesignDocID.
func SplitDesignDocID(id string) string {
	return strings.TrimPrefix(id, "_design/")
}
