package errors

// WrapOpComponent tags err with op and component. Nil stays nil.
func WrapOpComponent(err error, op, component string) error {
	return wrap(err, Op(op), Component(component))
}

// WrapOpComponentKind is WrapOpComponent with an explicit Kind.
func WrapOpComponentKind(err error, op, component string, kind Kind) error {
	return wrap(err, Op(op), Component(component), kind)
}

func wrap(err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return E(append(args, err)...)
}
