//go:build !(cgo && dxfeed_native)

package native

// Load возвращает реальную нативную библиотеку. В сборке без тега
// dxfeed_native библиотека не слинкована.
func Load() (Library, error) {
	return nil, ErrNotLinked
}
