package wsdk

import "testing"

func TestUnresolvedSymbolReturnsErrUnsupported(t *testing.T) {
	s := New(Funcs{})

	if _, err := s.ConnectionID(); err != ErrUnsupported {
		t.Errorf("ConnectionID() err = %v, want ErrUnsupported", err)
	}
	if err := s.MoveWindowsToManagedSpace(nil, 0); err != ErrUnsupported {
		t.Errorf("MoveWindowsToManagedSpace() err = %v, want ErrUnsupported", err)
	}
	if s.Supports("ConnectionID") {
		t.Error("Supports(\"ConnectionID\") = true for an empty Funcs table")
	}
}

func TestResolvedSymbolIsInvoked(t *testing.T) {
	called := false
	s := New(Funcs{
		ConnectionID: func() (uint64, error) {
			called = true
			return 42, nil
		},
	})

	if !s.Supports("ConnectionID") {
		t.Fatal("Supports(\"ConnectionID\") = false for a populated field")
	}
	id, err := s.ConnectionID()
	if err != nil {
		t.Fatalf("ConnectionID() err = %v", err)
	}
	if !called {
		t.Error("underlying function was not invoked")
	}
	if id != 42 {
		t.Errorf("ConnectionID() = %d, want 42", id)
	}
}

func TestSupportsUnknownName(t *testing.T) {
	s := New(Funcs{})
	if s.Supports("NotARealPrimitive") {
		t.Error("Supports() returned true for an unknown name")
	}
}
