package common

//go:generate go run github.com/dmarkham/enumer -json -type Status -trimprefix Status

type Status int

const (
	StatusPENDING Status = iota
	StatusCACHED
	StatusFETCHED
	StatusFAILED
)
