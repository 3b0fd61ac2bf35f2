package utils

import (
	"crypto/md5"
	"encoding/hex"
)

// BytesMD5 returns the hex MD5 digest of data. Uploads are tagged with it so
// results for the same image can be matched up.
func BytesMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
