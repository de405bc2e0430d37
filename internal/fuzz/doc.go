// Package fuzztests houses Go fuzz harnesses for the untrusted inputs of the
// runtime: assembler source, serialized modules and scripts, and encoded
// resource values. They must never panic.
//
// Назначение: прогонять произвольные байты через asm, bytecode, verifier и
// values.
//
// Не делает: генерацию корпусов, запись файлов, выполнение CLI.
//
// Зависимости: internal/asm, internal/bytecode, internal/verifier,
// internal/values, internal/natives.

package fuzztests
