package natives

import (
	"fmt"
	"strings"

	"modvm/internal/asm"
	"modvm/internal/bytecode"
	"modvm/internal/types"
)

// stdlibSource declares the standard natives. "@std" is replaced by the
// standard library address.
var stdlibSource = []string{`
module @std::Debug
public native fun print<T>(x: T)
`, `
module @std::Event
public native fun emit<T: drop + store>(msg: T)
`, `
module @std::Hash
public native fun sha3_256(data: vector<u8>): vector<u8>
`, `
module @std::Signer
public native fun address_of(s: signer): address
`, `
module @std::Vector
public native fun empty<T>(): vector<T>
public native fun length<T>(v: vector<T>): u64
public native fun push_back<T>(v: vector<T>, e: T): vector<T>
public native fun pop_back<T>(v: vector<T>): (vector<T>, T)
public native fun get<T: copy>(v: vector<T>, i: u64): T
`}

// StdlibModules assembles the modules that declare the standard natives at
// addr, in publishing order.
func StdlibModules(addr types.Address) ([]*bytecode.CompiledModule, error) {
	out := make([]*bytecode.CompiledModule, 0, len(stdlibSource))
	for _, src := range stdlibSource {
		m, err := asm.AssembleModule(strings.ReplaceAll(src, "@std", addr.String()))
		if err != nil {
			return nil, fmt.Errorf("natives: stdlib: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// StdlibBundle is StdlibModules serialized.
func StdlibBundle(addr types.Address) ([][]byte, error) {
	mods, err := StdlibModules(addr)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(mods))
	for i, m := range mods {
		if out[i], err = bytecode.SerializeModule(m); err != nil {
			return nil, err
		}
	}
	return out, nil
}
