//go:build release

package assert

func That(bool, string, ...any) {}

func Monotonic[T ~uint8 | ~uint16 | ~uint32 | ~uint64](T, T, string) {}
