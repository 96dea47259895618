// Package httpclient はGatewayからバックエンドサービスへのHTTP通信を行うクライアントを提供する。
//
// JSONボディのPOST、multipartファイルの転送、死活確認用のGETを扱う。
// 2xx以外の応答は*StatusErrorとして返す。リトライは行わない。
package httpclient
