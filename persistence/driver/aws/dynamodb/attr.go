package dynamodb

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// attrOf returns the attribute of item with the given name, which must be of
// type T.
func attrOf[T types.AttributeValue](
	item map[string]types.AttributeValue,
	name string,
) (T, error) {
	var zero T

	a, ok := item[name]
	if !ok {
		return zero, fmt.Errorf("item is corrupt: no %q attribute", name)
	}

	v, ok := a.(T)
	if !ok {
		return zero, fmt.Errorf("item is corrupt: %q attribute is %T, expected %T", name, a, zero)
	}

	return v, nil
}
