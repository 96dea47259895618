package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthenticated は有効な認証情報が1つも提示されなかったことを表す。
	ErrUnauthenticated = errors.New("認証されていません")
	// ErrInvalidSignature はトークンの署名またはアルゴリズムが不正であることを表す。
	ErrInvalidSignature = errors.New("トークンの署名が不正です")
	// ErrExpired はトークンの有効期限が切れていることを表す。
	ErrExpired = errors.New("トークンの有効期限が切れています")
	// ErrMissingSubject はトークンにsubクレームが無いことを表す。
	ErrMissingSubject = errors.New("トークンにsubjectがありません")
	// ErrInvalidCredentials はログイン時のユーザー名またはパスワードの不一致を表す。
	ErrInvalidCredentials = errors.New("ユーザー名またはパスワードが正しくありません")
)

// tokenTTL は発行するBearerトークンの有効期間。
const tokenTTL = 24 * time.Hour

// signingMethod はトークンの署名アルゴリズム。これ以外のアルゴリズムは受け付けない。
var signingMethod = jwt.SigningMethodHS256

// Authenticator はBearerトークンとAPIキーから呼び出し元を解決する。
type Authenticator struct {
	// creds は起動時に読み込んだ認証情報。
	creds *Credentials
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewAuthenticator は新しいAuthenticatorを生成する。
func NewAuthenticator(creds *Credentials) *Authenticator {
	return &Authenticator{
		creds: creds,
		now:   time.Now,
	}
}

// Authenticate はBearerトークンとAPIキーから呼び出し元を解決する。空文字列は未指定として扱う。
//
// APIキーが有効ならBearerトークンに関係なく成功する。無効なAPIキーはそれだけでは
// 失敗とせず、Bearerトークンの検証にフォールスルーする。Bearerトークンの検証に失敗した場合、
// 返すエラーはErrUnauthenticatedと個別の原因（ErrExpired等）の両方にマッチする。
func (a *Authenticator) Authenticate(bearerToken, apiKey string) (Identity, error) {
	if apiKey != "" && a.creds.hasAPIKey(apiKey) {
		return Identity{Kind: KindPresharedKey, Principal: maskKey(apiKey)}, nil
	}

	if bearerToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	username, err := a.VerifyToken(bearerToken)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return Identity{Kind: KindBearer, Principal: username}, nil
}

// IssueToken はusernameをsubjectとするBearerトークンを発行する。有効期間は24時間。
func (a *Authenticator) IssueToken(username string) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}

	token := jwt.NewWithClaims(signingMethod, claims)
	signed, err := token.SignedString(a.creds.secret)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// VerifyToken はBearerトークンの署名と有効期限を検証し、subjectを返す。
// サーバー側での失効は無く、署名と有効期限だけで有効性が決まる。
func (a *Authenticator) VerifyToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (any, error) {
			return a.creds.secret, nil
		},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}

// Login は管理者のユーザー名とパスワードを照合し、一致すればトークンを発行する。
//
// 設定値との単純比較による暫定的な認可であり、ユーザーディレクトリではない。
// 本番運用では外部のIDプロバイダ等に置き換える必要がある。
func (a *Authenticator) Login(username, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.creds.adminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.creds.adminPassword)) == 1
	if !userOK || !passOK {
		return "", ErrInvalidCredentials
	}
	return a.IssueToken(username)
}
