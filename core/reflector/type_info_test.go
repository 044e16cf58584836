package reflector

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStruct struct{ Name string }

type namedStruct struct{}

func (*namedStruct) TypeName() string { return "named.v1" }

const testStructName = "github.com/codewandler/aggrepo-go/core/reflector.testStruct"

func TestTypeInfoOf(t *testing.T) {
	ti := TypeInfoOf(testStruct{})
	require.Equal(t, testStructName, ti.Name)
	require.Equal(t, "testStruct", ti.Type.Name())

	ptr := TypeInfoOf(&testStruct{})
	require.Equal(t, testStructName, ptr.Name)
	require.NotEqual(t, reflect.Pointer, ptr.Type.Kind())
}

func TestTypeInfoFor(t *testing.T) {
	require.Equal(t, testStructName, TypeInfoFor[testStruct]().Name)
	require.Equal(t, testStructName, TypeInfoFor[*testStruct]().Name)
	require.Equal(t, TypeInfo{}, TypeInfoForType(nil))
}

func TestNames(t *testing.T) {
	require.Equal(t, testStructName, NameOf(&testStruct{}))
	require.Equal(t, "named.v1", NameOf(&namedStruct{}))
	require.Equal(t, "named.v1", NameFor[namedStruct]())
	require.Equal(t, testStructName, NameFor[testStruct]())
}

func TestTypeInfo_concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, testStructName, TypeInfoFor[testStruct]().Name)
		}()
	}
	wg.Wait()
}
