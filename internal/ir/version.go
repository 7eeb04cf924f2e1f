package ir

// EngineVersion is the canon release, reported by `canon --version`.
const EngineVersion = "0.1.0"
