package auth

import "strings"

// Credentials はプロセス起動時に一度だけ構築される認証情報ストア。
// リクエスト処理中に変更されることはない。
type Credentials struct {
	// secret はBearerトークン署名用の秘密鍵。
	secret []byte
	// apiKeys は有効な事前共有キーの集合。
	apiKeys map[string]struct{}
	// adminUsername はログイン用の管理者ユーザー名。
	adminUsername string
	// adminPassword はログイン用の管理者パスワード。
	adminPassword string
}

// NewCredentials は認証情報ストアを生成する。
// apiKeysの空要素と前後の空白は無視する。
func NewCredentials(secret string, apiKeys []string, adminUsername, adminPassword string) *Credentials {
	keys := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		keys[k] = struct{}{}
	}

	return &Credentials{
		secret:        []byte(secret),
		apiKeys:       keys,
		adminUsername: adminUsername,
		adminPassword: adminPassword,
	}
}

// hasAPIKey はkeyが有効な事前共有キーと完全一致するかを返す。
func (c *Credentials) hasAPIKey(key string) bool {
	_, ok := c.apiKeys[key]
	return ok
}
