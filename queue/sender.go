package queue

import "github.com/creativeprojects/postoffice/email"

// Sender transmits the notices generated by the queues
type Sender interface {
	Send(from string, to []string, msg *email.Message) error
}

// SendFunc adapts a function to the Sender interface
type SendFunc func(from string, to []string, msg *email.Message) error

func (f SendFunc) Send(from string, to []string, msg *email.Message) error {
	return f(from, to, msg)
}
