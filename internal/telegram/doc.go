// Package telegram holds the inbound webhook update schema and the outbound
// Notifier used to acknowledge updates.
//
// ParseUpdate accepts the subset of the Bot API Update object the webhook
// needs and ignores every other field Telegram sends. BotNotifier wraps
// go-telegram-bot-api for sendMessage.
package telegram
