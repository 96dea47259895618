// Package audit はリクエスト単位の監査ログを出力する。
//
// 1リクエストにつき開始（REQUEST）と終了（RESPONSE / ERROR）の2レコードを
// request_idで相関させて構造化ログとして出力する。ヘッダーや認証情報は記録しない。
// Sinkを設定した場合は同じレコードを永続化先にも書き込む。
package audit
