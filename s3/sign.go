package s3

import (
	"crypto/hmac"
	"crypto/sha1"
	"time"

	"github.com/grailbio/base/unsafe"
)

// stringToSign builds the canonical V2 request description:
// METHOD\n\nCONTENT_TYPE\nDATE\nRESOURCE_PATH.  The empty line is the
// (unused) Content-MD5 slot.
func stringToSign(method, resource, date, contentType string) string {
	return method + "\n" + "\n" + contentType + "\n" + date + "\n" + resource
}

// signString HMAC-SHA1s input with the secret key, yielding the
// 20-byte raw signature.
func signString(secret, input string) []byte {
	mac := hmac.New(sha1.New, unsafe.StringToBytes(secret))
	mac.Write(unsafe.StringToBytes(input)) // nolint: errcheck
	return mac.Sum(nil)
}

// signedEncodedString returns the value placed after the key id in the
// Authorization header.
func signedEncodedString(secret, method, resource, date, contentType string) string {
	return encodeBase64(signString(secret, stringToSign(method, resource, date, contentType)))
}

const base64Vals = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// encodeBase64 is standard base64 with '=' padding.  It is kept as an
// explicit, vector-tested unit rather than delegated to the stdlib
// encoder; the tests cross-check the two.
func encodeBase64(input []byte) string {
	n := len(input)
	out := make([]byte, (n+2)/3*4)
	oi := 0
	i := 0
	for ; i+3 <= n; i += 3 {
		chunk := uint32(input[i])<<16 | uint32(input[i+1])<<8 | uint32(input[i+2])
		out[oi+0] = base64Vals[chunk>>18&0x3f]
		out[oi+1] = base64Vals[chunk>>12&0x3f]
		out[oi+2] = base64Vals[chunk>>6&0x3f]
		out[oi+3] = base64Vals[chunk&0x3f]
		oi += 4
	}
	switch n - i {
	case 1:
		chunk := uint32(input[i]) << 16
		out[oi+0] = base64Vals[chunk>>18&0x3f]
		out[oi+1] = base64Vals[chunk>>12&0x3f]
		out[oi+2] = '='
		out[oi+3] = '='
	case 2:
		chunk := uint32(input[i])<<16 | uint32(input[i+1])<<8
		out[oi+0] = base64Vals[chunk>>18&0x3f]
		out[oi+1] = base64Vals[chunk>>12&0x3f]
		out[oi+2] = base64Vals[chunk>>6&0x3f]
		out[oi+3] = '='
	}
	return string(out)
}

// httpDate formats the current local time for the Date header, e.g.
// "Tue, 10 Nov 2009 23:00:00 -0800".
func httpDate() string {
	return time.Now().Format("Mon, 02 Jan 2006 15:04:05 -0700")
}
