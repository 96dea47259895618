package auth

// Kind は認証方式を表す。
type Kind string

const (
	// KindBearer はBearerトークンによる認証。
	KindBearer Kind = "bearer"
	// KindPresharedKey は事前共有APIキーによる認証。
	KindPresharedKey Kind = "pre-shared-key"
)

// keyPrefixLen はログに残してよいAPIキー先頭の文字数。
const keyPrefixLen = 4

// Identity は認証に成功した呼び出し元を表す。1リクエストの間だけ存在し、永続化しない。
type Identity struct {
	// Kind は認証方式。
	Kind Kind `json:"kind"`
	// Principal はBearerならユーザー名、APIキーならマスク済みの先頭部分。
	Principal string `json:"principal"`
}

// maskKey はAPIキーを先頭keyPrefixLen文字だけ残してマスクする。
// keyPrefixLen文字以下のキーは全体を伏せる。
func maskKey(key string) string {
	r := []rune(key)
	if len(r) <= keyPrefixLen {
		return "***"
	}
	return string(r[:keyPrefixLen]) + "***"
}

// SafeIdentifier はIdentityをログ出力可能な文字列に変換する。
// 生のトークンやAPIキー全体をログに出さないため、Identityの文字列化は必ずこの関数を使う。
func SafeIdentifier(id Identity) string {
	switch id.Kind {
	case KindBearer:
		return "user:" + id.Principal
	case KindPresharedKey:
		return "api_key:" + id.Principal
	default:
		return "unknown"
	}
}
