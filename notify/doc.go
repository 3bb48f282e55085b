// Package notify delivers verification codes. SMTPNotifier sends HTML mail
// through gomail; LogNotifier writes codes to a zap logger for local runs.
package notify
