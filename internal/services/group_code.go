package services

import (
	"crypto/rand"
	"math/big"
	"net/url"
	"strings"
)

const (
	groupCodeLength   = 6
	groupCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	joinPath          = "/join-group"
)

// newGroupCode 生成 6 位 [0-9A-Z] 邀请码。
func newGroupCode() (string, error) {
	var b strings.Builder
	base := big.NewInt(int64(len(groupCodeAlphabet)))
	for i := 0; i < groupCodeLength; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b.WriteByte(groupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode 去掉空白并转为大写，查找邀请码时大小写不敏感。
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CodeFromInput 接受邀请码本身或扫码得到的加群链接，返回规范化的邀请码。
func CodeFromInput(input string) string {
	input = strings.TrimSpace(input)
	if strings.Contains(input, "code=") {
		if u, err := url.Parse(input); err == nil {
			if code := u.Query().Get("code"); code != "" {
				return NormalizeCode(code)
			}
		}
	}
	return NormalizeCode(input)
}

// JoinURL 构造群组的加群链接，也是二维码的内容。
func JoinURL(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + joinPath + "?code=" + url.QueryEscape(code)
}
