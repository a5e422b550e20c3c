package domain

// Opt 是显式的可选值：字段要么 Some(v)，要么 None。
// 所有消费者统一通过 Get 判断缺失，不依赖零值或 map 缺键。
type Opt[T any] struct {
	v  T
	ok bool
}

func Some[T any](v T) Opt[T] { return Opt[T]{v: v, ok: true} }

func None[T any]() Opt[T] { return Opt[T]{} }

func (o Opt[T]) Get() (T, bool) { return o.v, o.ok }

func (o Opt[T]) IsSome() bool { return o.ok }

// Or 在缺失时返回 def。
func (o Opt[T]) Or(def T) T {
	if o.ok {
		return o.v
	}
	return def
}
