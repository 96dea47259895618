// Package middleware はGatewayのGinミドルウェアを提供する。
//
// 監査ログ（開始・終了レコード）、パニックリカバリ、APIキー / Bearerトークン認証、
// CORS設定を含む。Auditを最も外側に置くことで、どの経路で終了しても
// 終了レコードが必ず出力される。
package middleware
