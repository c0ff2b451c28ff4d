package ed25519

import "fmt"

func ExampleNewSignerFromBytes() {
	signer := NewSigner()

	data, err := signer.MarshalBinary()
	if err != nil {
		panic("marshal failed: " + err.Error())
	}

	restored, err := NewSignerFromBytes(data)
	if err != nil {
		panic("restore failed: " + err.Error())
	}

	ballot := []byte("poll 1, option 2")

	signature, err := restored.Sign(ballot)
	if err != nil {
		panic("signer failed: " + err.Error())
	}

	err = signer.GetPublicKey().Verify(ballot, signature)
	fmt.Println(err == nil, restored.GetPublicKey().Equal(signer.GetPublicKey()))

	// Output: true true
}
