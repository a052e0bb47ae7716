package txrelayer

type ITxRelayer interface {
	Start() error
	Stop()
	WaitForShutdown() error
	Name() string
}
