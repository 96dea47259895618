// Package auth はGatewayの認証処理を提供する。
//
// Bearerトークン（HS256署名のJWT）と事前共有APIキーの2方式を扱う。
// APIキーを先に評価し、一致しなければBearerトークンの検証にフォールスルーする。
// 認証結果のIdentityをログに出す場合は必ずSafeIdentifierを経由すること。
package auth
