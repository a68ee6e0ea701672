package util

import (
	"crypto/md5"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseShardName(t *testing.T) {
	assert.Equal(t, "mydb", ParseShardName("shards/00000000-7fffffff/mydb.1415960794"))
	assert.Equal(t, "account/db", ParseShardName("shards/80000000-ffffffff/account/db.1415960794"))
	assert.Equal(t, "mydb", ParseShardName("mydb"))
	assert.Equal(t, "shards/xyz/mydb.1", ParseShardName("shards/xyz/mydb.1"))
}

func TestDBCopyDocID(t *testing.T) {
	// "\x83m" + uint32 length + key
	sum := md5.Sum([]byte("\x83m\x00\x00\x00\x03foo"))
	want := strings.TrimRight(base64.StdEncoding.EncodeToString(sum[:]), "=")
	want = strings.NewReplacer("/", "_", "+", "-").Replace(want)

	assert.Equal(t, want, DBCopyDocID("foo"))
	assert.Len(t, DBCopyDocID(""), 22)
	assert.NotEqual(t, DBCopyDocID("foo"), DBCopyDocID("bar"))
}

func TestDesignDocID(t *testing.T) {
	assert.Equal(t, "_design/foo", DesignDocID("foo"))
	assert.Equal(t, "_design/foo", DesignDocID("_design/foo"))
	assert.Equal(t, "foo", SplitDesignDocID("_design/foo"))
}
