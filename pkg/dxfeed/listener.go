package dxfeed

import (
	"context"

	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
)

// Listener получает события подписки на потоке доставки нативной
// библиотеки. Вызовы одной подписки последовательны.
//
// ctx, переданный в OnEvent/OnError, помечает вызов как доставку.
// Операции Connection и Subscription, вызванные из слушателя, должны
// получать именно этот ctx: тогда нативная работа откладывается в
// управляющую горутину соединения, и Close изнутри слушателя не
// блокируется на самом себе.
type Listener interface {
	OnEvent(ctx context.Context, ev event.Event)
	// OnError получает *DecodeError для отклонённой записи или ошибку
	// отложенной подписки. Доставка продолжается.
	OnError(ctx context.Context, err error)
}

// ListenerFuncs: адаптер из функций. Nil-поля игнорируются.
type ListenerFuncs struct {
	Event func(ctx context.Context, ev event.Event)
	Error func(ctx context.Context, err error)
}

func (f ListenerFuncs) OnEvent(ctx context.Context, ev event.Event) {
	if f.Event != nil {
		f.Event(ctx, ev)
	}
}

func (f ListenerFuncs) OnError(ctx context.Context, err error) {
	if f.Error != nil {
		f.Error(ctx, err)
	}
}

type deliveryKey struct{}

// withDelivery помечает ctx как контекст доставки.
func withDelivery(ctx context.Context) context.Context {
	return context.WithValue(ctx, deliveryKey{}, true)
}

// InDelivery сообщает, что ctx получен слушателем на потоке доставки.
func InDelivery(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(deliveryKey{}).(bool)
	return v
}
